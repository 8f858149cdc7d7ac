package extract

import "encoding/json"

func decodeResponse(raw []byte) (rawResponse, error) {
	var resp rawResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return rawResponse{}, err
	}
	return resp, nil
}
