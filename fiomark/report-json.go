package fiomark

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

func ToJson(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

func FromJsonFile(jsonFile string) (*Report, error) {
	jsonData, err := os.ReadFile(jsonFile)
	if err != nil {
		return nil, errors.Wrapf(err, "reading report %s", jsonFile)
	}
	return FromJsonByteArray(jsonData)
}

func FromJsonByteArray(jsonData []byte) (*Report, error) {
	r := &Report{}
	err := json.Unmarshal(jsonData, r)
	return r, errors.Wrap(err, "decoding report")
}
