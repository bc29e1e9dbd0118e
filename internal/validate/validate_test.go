package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBody(t *testing.T) {
	tests := []struct {
		name   string
		schema string
		body   string
		ok     bool
	}{
		{"capture minimal", Capture, `{"image":"aGVsbG8="}`, true},
		{"capture full", Capture, `{"image":"x","title":"Receipt","folder_id":"7f1e4b2a-9c3d-4e5f-8a6b-1c2d3e4f5a6b","crop":true,"auto_ocr":false}`, true},
		{"capture null folder", Capture, `{"image":"x","folder_id":null}`, true},
		{"capture missing image", Capture, `{"title":"x"}`, false},
		{"capture empty image", Capture, `{"image":""}`, false},
		{"capture bad folder", Capture, `{"image":"x","folder_id":"42"}`, false},
		{"capture unknown field", Capture, `{"image":"x","dpi":300}`, false},

		{"patch title", DocumentPatch, `{"title":"Renamed"}`, true},
		{"patch tags", DocumentPatch, `{"tags":["tax","2024"],"is_favorite":true}`, true},
		{"patch empty", DocumentPatch, `{}`, false},
		{"patch blank title", DocumentPatch, `{"title":""}`, false},
		{"patch comma tag", DocumentPatch, `{"tags":["a,b"]}`, false},
		{"patch wrong type", DocumentPatch, `{"is_archived":"yes"}`, false},

		{"content", Content, `{"content":""}`, true},
		{"content missing", Content, `{}`, false},

		{"folder create", FolderCreate, `{"name":"Invoices","color":"#A1b2C3"}`, true},
		{"folder create bad color", FolderCreate, `{"name":"Invoices","color":"red"}`, false},
		{"folder create no name", FolderCreate, `{"color":"#000000"}`, false},
		{"folder update", FolderUpdate, `{"description":"old bills"}`, true},
		{"folder update empty", FolderUpdate, `{}`, false},

		{"move", Move, `{"folder_id":"7f1e4b2a-9c3d-4e5f-8a6b-1c2d3e4f5a6b"}`, true},
		{"move unfile", Move, `{"folder_id":null}`, true},
		{"move missing", Move, `{}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Body(tt.schema, []byte(tt.body))
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var ve *Error
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.schema, ve.Schema)
			assert.NotEmpty(t, ve.Problems)
		})
	}
}

func TestBody_MalformedJSON(t *testing.T) {
	err := Body(Content, []byte(`{"content":`))
	var ve *Error
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, []string{"body: malformed JSON"}, ve.Problems)
}

func TestBody_UnknownSchema(t *testing.T) {
	err := Body("nope", []byte(`{}`))
	require.Error(t, err)
	var ve *Error
	assert.False(t, errors.As(err, &ve))
}
