package output

import (
	"encoding/json"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) Format(v Renderable) (string, error) {
	if v == nil {
		return "", nil
	}

	var (
		data []byte
		err  error
	)
	if f.Indent {
		data, err = json.MarshalIndent(v.Data(), "", "  ")
	} else {
		data, err = json.Marshal(v.Data())
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
