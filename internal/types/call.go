package types

import "time"

// CallRecord mirrors the calls table. Created by call logging; the pipeline
// only ever fills in Transcription.
type CallRecord struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	PhoneNumber   string    `json:"phone_number"`
	ContactName   string    `json:"contact_name"`
	LengthSeconds int       `json:"length_seconds"`
	CallType      int       `json:"call_type"`
	DateTime      time.Time `json:"date_time"`
	Transcription *string   `json:"transcription,omitempty"`
	FileBucket    string    `json:"file_bucket,omitempty"`
	FileKey       string    `json:"file_key,omitempty"`
}
