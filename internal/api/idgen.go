package api

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	idAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomCodeLength = 6
	anonIdLength   = 4
	anonIdPrefix   = "Anon#"

	maxRoomCodeAttempts = 10
)

func randomToken(n int) (string, error) {
	token := make([]byte, n)
	for i := range token {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(idAlphabet))))
		if err != nil {
			return "", fmt.Errorf("random index: %w", err)
		}
		token[i] = idAlphabet[idx.Int64()]
	}

	return string(token), nil
}

// generateRoomCode draws candidate codes until one is unused.
func (s *AnonymeetApp) generateRoomCode() (string, error) {
	for i := 0; i < maxRoomCodeAttempts; i++ {
		code, err := randomToken(roomCodeLength)
		if err != nil {
			return "", err
		}

		exists, err := s.db.RoomCodeExists(code)
		if err != nil {
			return "", fmt.Errorf("check room code: %w", err)
		}

		if !exists {
			return code, nil
		}
	}

	return "", fmt.Errorf("exhausted %d room code attempts", maxRoomCodeAttempts)
}

func generateAnonymousId() (string, error) {
	token, err := randomToken(anonIdLength)
	if err != nil {
		return "", err
	}

	return anonIdPrefix + token, nil
}
