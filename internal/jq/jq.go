package jq

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/itchyny/gojq"
)

func PerformJqQueryOnFile(filePath string, jqQuery string) ([]byte, error) {
	jsonContent, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	return PerformJqQuery(jsonContent, jqQuery)
}

// PerformJqQuery runs a jq expression over JSON content and returns the
// marshalled results, one per line like the jq tool itself.
func PerformJqQuery(jsonContent []byte, jqQuery string) ([]byte, error) {
	if jqQuery == "" {
		return nil, errors.New("jq query is empty")
	}

	query, err := gojq.Parse(jqQuery)
	if err != nil {
		return nil, fmt.Errorf("invalid jq query %q: %w", jqQuery, err)
	}

	var jsonData interface{}
	if err := json.Unmarshal(jsonContent, &jsonData); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	iter := query.Run(jsonData)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				break
			}
			return nil, err
		}
		result, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if out.Len() > 0 {
			out.WriteByte('\n')
		}
		out.Write(result)
	}

	return out.Bytes(), nil
}
