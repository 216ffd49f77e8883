package devices

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

const (
	unknownTitle  = "Unknown Title"
	unknownAlbum  = "Unknown Album"
	unknownArtist = "Unknown Artist"

	// trackNotImplemented is what players report as TrackMetaData for line-in and idle sources.
	trackNotImplemented = "NOT_IMPLEMENTED"
)

// ErrNoTrackItem is returned when track metadata carries no DIDL-Lite item.
var ErrNoTrackItem = errors.New("track metadata has no DIDL-Lite item")

// TrackInfo is the current track parsed from DIDL-Lite metadata.
type TrackInfo struct {
	Title            string
	Album            string
	Artist           string
	StreamContent    string
	HasStreamContent bool
	ProtocolInfo     string

	containsErrors bool
}

// TrackView is the JSON form of a TrackInfo.
type TrackView struct {
	Title          string `json:"title"`
	Album          string `json:"album"`
	Artist         string `json:"artist"`
	StreamContent  string `json:"stream_content,omitempty"`
	Text           string `json:"text"`
	IsPlayingRadio bool   `json:"is_playing_radio"`
	ContainsErrors bool   `json:"contains_errors"`
}

// ParseTrackMetadata reads the first DIDL-Lite item of a TrackMetaData blob.
// Missing title, album or creator fall back to placeholders and mark the track as degraded.
func ParseTrackMetadata(metadata string) (*TrackInfo, error) {
	decoder := xml.NewDecoder(strings.NewReader(metadata))

	var (
		title, album, artist, stream, protocol string
		hasTitle, hasAlbum, hasArtist          bool
		hasStream, hasProtocol, inItem         bool
		foundItem                              bool
	)

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			if foundItem {
				break
			}
			return nil, err
		}

		switch se := tok.(type) {
		case xml.StartElement:
			if se.Name.Local == "item" && !foundItem {
				inItem, foundItem = true, true
				continue
			}
			if !inItem {
				continue
			}
			switch se.Name.Local {
			case "title", "album", "creator", "streamContent":
				var value string
				if err := decoder.DecodeElement(&value, &se); err != nil {
					continue
				}
				switch se.Name.Local {
				case "title":
					if !hasTitle {
						title, hasTitle = value, true
					}
				case "album":
					if !hasAlbum {
						album, hasAlbum = value, true
					}
				case "creator":
					if !hasArtist {
						artist, hasArtist = value, true
					}
				case "streamContent":
					if !hasStream {
						stream, hasStream = value, true
					}
				}
			case "res":
				if hasProtocol {
					continue
				}
				for _, attr := range se.Attr {
					if attr.Name.Local == "protocolInfo" {
						protocol, hasProtocol = attr.Value, true
					}
				}
			}
		case xml.EndElement:
			if se.Name.Local == "item" {
				inItem = false
			}
		}
	}

	if !foundItem {
		return nil, ErrNoTrackItem
	}

	track := &TrackInfo{
		Title:            title,
		Album:            album,
		Artist:           artist,
		StreamContent:    stream,
		HasStreamContent: hasStream,
		ProtocolInfo:     protocol,
	}
	if !hasTitle {
		track.Title = unknownTitle
	}
	if !hasAlbum {
		track.Album = unknownAlbum
	}
	if !hasArtist {
		track.Artist = unknownArtist
	}
	track.containsErrors = !hasTitle || !hasAlbum || !hasArtist
	return track, nil
}

// ContainsErrors reports whether title, album or artist could not be parsed.
func (t *TrackInfo) ContainsErrors() bool {
	return t.containsErrors
}

// IsPlayingRadio is true for radio protocol info with stream content present.
func (t *TrackInfo) IsPlayingRadio() bool {
	return t.HasStreamContent && strings.Contains(t.ProtocolInfo, "radio")
}

// Text is the display line: "title - artist", or the stream content when the track is degraded.
func (t *TrackInfo) Text() string {
	if t.containsErrors {
		if t.HasStreamContent {
			return t.StreamContent
		}
		return ""
	}
	return t.Title + " - " + t.Artist
}

// View returns the JSON form of the track.
func (t *TrackInfo) View() *TrackView {
	if t == nil {
		return nil
	}
	return &TrackView{
		Title:          t.Title,
		Album:          t.Album,
		Artist:         t.Artist,
		StreamContent:  t.StreamContent,
		Text:           t.Text(),
		IsPlayingRadio: t.IsPlayingRadio(),
		ContainsErrors: t.containsErrors,
	}
}
