package validate

// defaultQualifiers is the fixed list of contextual qualifier tokens. A
// relationship tag naming a third party is still acceptable when one of
// these appears in the tag text, signaling the extra party is not the
// narrative focus.
var defaultQualifiers = []string{
	"past",
	"background",
	"mentioned",
	"mention of",
	"implied",
	"unrequited",
	"one-sided",
	"onesided",
	"one sided",
	"pre-relationship",
	"pre-slash",
	"pre-ship",
	"former",
	"ex-",
	"brief",
	"minor",
	"temporary",
	"hinted",
	"referenced",
	"secondary",
	"side",
	"endgame breakup",
	"breaks up",
	"broken up",
}
