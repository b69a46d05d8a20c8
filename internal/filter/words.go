package filter

// defaultWords is the built-in block list. Deployments with their own policy
// should construct the filter with New and a custom list.
var defaultWords = []string{
	"arse",
	"ass",
	"asshole",
	"bastard",
	"bitch",
	"bollocks",
	"bullshit",
	"crap",
	"damn",
	"dick",
	"dickhead",
	"douche",
	"fuck",
	"fucker",
	"fucking",
	"goddamn",
	"jackass",
	"jerk",
	"piss",
	"prick",
	"shit",
	"shitty",
	"slut",
	"twat",
	"wanker",
	"whore",
}
