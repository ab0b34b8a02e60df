package cqcode

import (
	"strconv"

	"github.com/mkixlab/mkxi/pkg/errs"
)

// faceTable maps legacy numeric face ids to Unicode emoji, ten per row.
// Row = id/10, column = id%10. Blank cells are ids the platform never
// assigned a glyph.
var faceTable = [][10]string{
	{"😲", "😖", "🥰", "🥲", "😎", "😭", "😊", "🤐", "😪", "😢"},
	{"😡", "🤬", "😛", "😁", "😊", "😣", "😎", " ", "😫", "🤮"},
	{"🫢", "😊", "😶", "😕", "😜", "🥱", "😰", "😅", "😀", "🤠"},
	{"🤓", "🤪", "🤔", "🤫", "😵", "😵", "🥶", "💀", "😰", "🤗"},
	{" ", "🫨", "💓", "🤣", " ", " ", "🐷", " ", " ", "🤗"},

	{" ", " ", " ", "🎂", "⚡", "💣", "🔪", "⚽", " ", "💩"},
	{"☕", "🍚", "💊", "🌹", "🥀", " ", "❤️", "💔", " ", "🎁"},
	{" ", " ", "✉️", " ", "☀️", "🌙", "👍", "👎", "🤝", "✌️"},
	{" ", " ", " ", " ", " ", "😘", "🤪", " ", " ", "🍉"},
	{"🌧️", "☁️", " ", " ", " ", " ", "😥", "😓", "🙄", "👏"},

	{"😥", "😁", "😏", "😏", "🫢", "👎", "😔", "😔", "😅", "😘"},
	{"😲", "🥹", "🔪", "🍺", "🏀", "🏓", "👄", "🐞", "👍", "🫵"},
	{"✊", "👆", "🤘", "👆", "👌", "😉", "☺️", "😏", "🙂", "👋"},
	{"😂", "😮", "🫢", "🙂", "🙂", " ", "❤️", "🧨", "🏮", "🤑"},
	{"🎤", "💼", "✉️", "🔴", "💐", "🕯️", "💢", "🍭", "🍼", "🍜"},

	{"🍌", "✈️", "🚙", "🚅", "🚅", "🚅", "☁️", "🌧️", "💵", "🐼"},
	{"💡", "🪁", "⏰", "☂️", "🎈", "💍", "🛋️", "🧻", "💊", "🔫"},
	{"🐸", "🍵", "😜", "😢", "😛", "😝", "😌", "😡", "😊", "😗"},
	{"😲", "🥺", "😂", "😝", "🦀", "🦙", "🌰", "👻", "🥚", "📱"},
	{"🏵️", "🧼", "🧧", "🤤", "😕", " ", " ", "🙄", "🫢", "👏"},

	{"🙏", "👍", "😊", "😛", "😯", "🌹", "😅", "🥰", "😡", " "},
	{"😂", "🫣", "😐", "😘", "💩", "👊", "😐", "😛", "🥳", "🥸"},
	{"👍", " ", " ", " ", " ", " ", " ", " ", " ", " "},
}

// FaceCount is the number of mapped face ids.
const FaceCount = 230

// FaceLookup resolves a legacy face id to its emoji.
func FaceLookup(id string) (string, error) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return "", errs.Wrap(errs.Usage, err, "bad face id")
	}
	if n < 0 || n >= FaceCount {
		return "", errs.New(errs.Usage, "invalid face id: %d", n)
	}
	return faceTable[n/10][n%10], nil
}
