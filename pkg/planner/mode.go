package planner

import (
	"fmt"

	"github.com/paulschiretz/pgl-unpack/pkg/util"
)

// Mode represents where extracted archives are written.
type Mode int

const (
	// InPlace extracts every archive into its own parent directory.
	InPlace Mode = iota
	// Collect extracts every archive into one shared output directory.
	Collect
)

var modeToString = map[Mode]string{
	InPlace: "in-place",
	Collect: "collect",
}
var stringToMode = map[string]Mode{}

func init() {
	stringToMode = util.InvertMap(modeToString)
}

// String returns the string representation of a Mode.
func (m Mode) String() string {
	if str, ok := modeToString[m]; ok {
		return str
	}
	return fmt.Sprintf("unknown_mode(%d)", m)
}

// ParseMode parses a string and returns the corresponding Mode.
func ParseMode(s string) (Mode, error) {
	if mode, ok := stringToMode[s]; ok {
		return mode, nil
	}
	return 0, fmt.Errorf("invalid mode: %q. Must be 'in-place' or 'collect'", s)
}
