package runlog

import (
	"encoding/json"
	"fmt"

	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// Format selects the compression applied to archived run logs.
type Format string

const (
	Gzip Format = "gzip"
	Zstd Format = "zstd"
)

var formatToExt = map[Format]string{
	Gzip: ".gz",
	Zstd: ".zst",
}

var extToFormat map[string]Format

func init() {
	extToFormat = util.InvertMap(formatToExt)
}

func (f Format) String() string {
	if _, ok := formatToExt[f]; ok {
		return string(f)
	}
	return fmt.Sprintf("unknown_log_format(%s)", string(f))
}

// Ext returns the file extension for the format, e.g. ".gz".
func (f Format) Ext() string {
	return formatToExt[f]
}

func ParseFormat(s string) (Format, error) {
	f := Format(s)
	if _, ok := formatToExt[f]; ok {
		return f, nil
	}
	return "", fmt.Errorf("invalid log compression format: %q. Must be 'gzip' or 'zstd'", s)
}

// MarshalJSON implements the json.Marshaler interface for Format.
func (f Format) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Format.
func (f *Format) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("log compression format should be a string, got %s", data)
	}
	parsed, err := ParseFormat(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
