package api

import (
	"strings"
	"testing"

	"github.com/anonymeet/anonymeet/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func Test_generateRoomCode(t *testing.T) {
	t.Run("draws from the code alphabet", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		db.On("RoomCodeExists", mock.AnythingOfType("string")).Return(false, nil).Once()

		code, err := app.generateRoomCode()
		require.NoError(t, err)
		assert.Len(t, code, roomCodeLength)
		for _, c := range code {
			assert.True(t, strings.ContainsRune(idAlphabet, c))
		}
	})

	t.Run("retries on collision", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		db.On("RoomCodeExists", mock.AnythingOfType("string")).Return(true, nil).Once()
		db.On("RoomCodeExists", mock.AnythingOfType("string")).Return(false, nil).Once()

		code, err := app.generateRoomCode()
		require.NoError(t, err)
		assert.Len(t, code, roomCodeLength)
	})

	t.Run("gives up after repeated collisions", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		db.On("RoomCodeExists", mock.AnythingOfType("string")).Return(true, nil).Times(maxRoomCodeAttempts)

		_, err := app.generateRoomCode()
		assert.Error(t, err)
	})
}

func Test_generateAnonymousId(t *testing.T) {
	id, err := generateAnonymousId()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, anonIdPrefix))
	assert.Len(t, id, len(anonIdPrefix)+anonIdLength)
}
