package model

import "encoding/json"

// ReadResult is the JSON-serializable Result<TagResponse, ReadError> the
// scheduler and MQTT bridge publish back onto the broker.
type ReadResult struct {
	Response *TagResponse
	Err      *ReadError
}

func ReadOK(r TagResponse) ReadResult   { return ReadResult{Response: &r} }
func ReadErr(e *ReadError) ReadResult   { return ReadResult{Err: e} }

func (r ReadResult) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return r.Err.MarshalJSON()
	}
	return json.Marshal(r.Response)
}

// WriteResult is the JSON-serializable Result<(), WriteError>.
type WriteResult struct {
	Err *WriteError
}

func WriteOK() WriteResult                  { return WriteResult{} }
func WriteErr(e *WriteError) WriteResult    { return WriteResult{Err: e} }

func (r WriteResult) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return r.Err.MarshalJSON()
	}
	return []byte(`null`), nil
}
