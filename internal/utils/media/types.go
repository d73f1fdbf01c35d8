// Package media maps media kinds to mimetypes, file names and whatsmeow
// upload types.
package media

import (
	"path/filepath"
	"strings"

	"go.mau.fi/whatsmeow"

	"fleetbot/internal/transport"
)

// UploadType maps a media kind to the whatsmeow upload type. ok is false for
// kinds that carry no media.
func UploadType(kind transport.MessageKind) (t whatsmeow.MediaType, ok bool) {
	switch kind {
	case transport.KindImage:
		return whatsmeow.MediaImage, true
	case transport.KindVideo:
		return whatsmeow.MediaVideo, true
	case transport.KindAudio:
		return whatsmeow.MediaAudio, true
	case transport.KindDocument:
		return whatsmeow.MediaDocument, true
	case transport.KindSticker:
		// Stickers use image type
		return whatsmeow.MediaImage, true
	}
	return "", false
}

// KindFromMime detects the media kind from a MIME type.
func KindFromMime(mime string) transport.MessageKind {
	mime = strings.ToLower(mime)

	switch {
	case strings.HasPrefix(mime, "image/webp"):
		return transport.KindSticker
	case strings.HasPrefix(mime, "image/"):
		return transport.KindImage
	case strings.HasPrefix(mime, "video/"):
		return transport.KindVideo
	case strings.HasPrefix(mime, "audio/"):
		return transport.KindAudio
	default:
		return transport.KindDocument
	}
}

// KindFromFileName detects the media kind from a file extension.
func KindFromFileName(filename string) transport.MessageKind {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff":
		return transport.KindImage
	case ".webp":
		return transport.KindSticker
	case ".mp4", ".mov", ".avi", ".mkv", ".webm", ".3gp":
		return transport.KindVideo
	case ".mp3", ".ogg", ".wav", ".m4a", ".aac", ".opus", ".flac":
		return transport.KindAudio
	default:
		return transport.KindDocument
	}
}

// DefaultMime is the mimetype sent when the caller gave none.
func DefaultMime(kind transport.MessageKind) string {
	switch kind {
	case transport.KindImage:
		return "image/jpeg"
	case transport.KindVideo:
		return "video/mp4"
	case transport.KindAudio:
		return "audio/ogg; codecs=opus"
	case transport.KindSticker:
		return "image/webp"
	}
	return "application/octet-stream"
}

// Resolve fills in a missing kind and mimetype of m, in place.
func Resolve(m *transport.OutgoingMedia) {
	if m.Kind == "" {
		switch {
		case m.Mimetype != "":
			m.Kind = KindFromMime(m.Mimetype)
		case m.FileName != "":
			m.Kind = KindFromFileName(m.FileName)
		default:
			m.Kind = transport.KindDocument
		}
	}
	if m.Mimetype == "" {
		m.Mimetype = DefaultMime(m.Kind)
	}
}
