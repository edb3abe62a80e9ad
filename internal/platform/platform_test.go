// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAttachment_IsImage(t *testing.T) {
	tests := []struct {
		a    Attachment
		want bool
	}{
		{Attachment{ContentType: "image/png"}, true},
		{Attachment{Filename: "cat.JPG"}, true},
		{Attachment{Filename: "notes.txt", ContentType: "text/plain"}, false},
		{Attachment{}, false},
	}
	for _, tt := range tests {
		if got := tt.a.IsImage(); got != tt.want {
			t.Errorf("IsImage(%+v) = %v, want %v", tt.a, got, tt.want)
		}
	}
}

func TestMessage_FirstImage(t *testing.T) {
	ref := &Message{Attachments: []Attachment{{Filename: "ref.png", URL: "r"}}}
	msg := &Message{
		Attachments: []Attachment{{Filename: "doc.pdf"}},
		Reference:   ref,
	}

	a, ok := msg.FirstImage()
	if !ok || a.URL != "r" {
		t.Errorf("FirstImage() = %+v, %v; want referenced image", a, ok)
	}

	msg.Attachments = append(msg.Attachments, Attachment{Filename: "own.gif", URL: "o"})
	if a, _ := msg.FirstImage(); a.URL != "o" {
		t.Errorf("FirstImage() URL = %q, want %q", a.URL, "o")
	}

	if _, ok := (&Message{}).FirstImage(); ok {
		t.Error("FirstImage() on empty message should report false")
	}
}

func TestReadAttachment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("PNGDATA"))
	}))
	defer srv.Close()

	data, err := ReadAttachment(context.Background(), srv.Client(), Attachment{URL: srv.URL + "/a.png", Filename: "a.png"})
	if err != nil {
		t.Fatalf("ReadAttachment() error = %v", err)
	}
	if string(data) != "PNGDATA" {
		t.Errorf("ReadAttachment() = %q, want %q", data, "PNGDATA")
	}

	if _, err := ReadAttachment(context.Background(), srv.Client(), Attachment{URL: srv.URL + "/missing"}); err == nil {
		t.Error("ReadAttachment() on 404 should fail")
	}
}
