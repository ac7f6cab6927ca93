package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// RewardsJSONL builds a JSON Lines export for the supplied reward records and
// returns the serialised payload alongside a checksum.
func RewardsJSONL(records []Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, record := range records {
		payload := map[string]interface{}{
			"id":         record.ID,
			"owner":      record.Owner,
			"points":     record.Points,
			"status":     status(record.Burned),
			"annotation": record.Annotation,
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
