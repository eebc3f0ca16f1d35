// Package archive stores finished session transcripts and call recordings.
package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/supabase-community/supabase-go"

	"github.com/chadiek/covercall/internal/dialog"
)

// Uploader writes one object.
type Uploader interface {
	Upload(key, contentType string, data []byte) error
}

// Supabase uploads to a Supabase storage bucket.
type Supabase struct {
	client *supabase.Client
	bucket string
}

func NewSupabase(url, serviceRoleKey, bucket string) (*Supabase, error) {
	client, err := supabase.NewClient(url, serviceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("archive: supabase client: %w", err)
	}
	return &Supabase{client: client, bucket: bucket}, nil
}

func (s *Supabase) Upload(key, _ string, data []byte) error {
	if _, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("archive: upload %s: %w", key, err)
	}
	return nil
}

// Archive names and encodes archived objects. A nil Archive discards
// everything.
type Archive struct {
	up  Uploader
	log logrus.FieldLogger
	now func() time.Time
}

func New(up Uploader, log logrus.FieldLogger) *Archive {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Archive{up: up, log: log.WithField("component", "archive"), now: time.Now}
}

// Transcript is the archived form of a finished session.
type Transcript struct {
	SessionID string        `json:"session_id"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	State     dialog.State  `json:"state"`
	Error     string        `json:"error,omitempty"`
	Turns     []dialog.Turn `json:"turns"`
	Record    any           `json:"record"`
}

// SaveTranscript uploads the conversation and record of a finished session.
func (a *Archive) SaveTranscript(v dialog.View) error {
	if a == nil {
		return nil
	}
	t := Transcript{
		SessionID: v.ID,
		StartedAt: v.StartedAt,
		EndedAt:   a.now(),
		State:     v.State,
		Error:     v.Error,
		Turns:     v.History,
		Record:    v.Record,
	}
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: encode transcript: %w", err)
	}
	key := fmt.Sprintf("transcripts/%s_%d.json", v.ID, t.EndedAt.Unix())
	if err := a.up.Upload(key, "application/json", b); err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{"session_id": v.ID, "key": key, "turns": len(v.History)}).Info("transcript archived")
	return nil
}

// SaveRecording uploads a call recording.
func (a *Archive) SaveRecording(recordingSID string, wav []byte) (string, error) {
	if a == nil {
		return "", nil
	}
	key := fmt.Sprintf("recordings/recording_%s_%d.wav", recordingSID, a.now().Unix())
	if err := a.up.Upload(key, "audio/wav", wav); err != nil {
		return "", err
	}
	a.log.WithFields(logrus.Fields{"recording_sid": recordingSID, "key": key, "bytes": len(wav)}).Info("recording archived")
	return key, nil
}
