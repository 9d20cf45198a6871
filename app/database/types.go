package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

type JSONObject map[string]interface{}

func (j *JSONObject) Scan(value interface{}) error {
	if value == nil {
		*j = JSONObject{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New(fmt.Sprint("failed to unmarshal JSONB value:", value))
	}

	var result map[string]interface{}
	err := json.Unmarshal(bytes, &result)
	*j = JSONObject(result)
	return err
}

func (j JSONObject) Value() (driver.Value, error) {
	valueString, err := json.Marshal(j)
	return string(valueString), err
}
