package server

import (
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/Tyrowin/hearth/internal/history"
	"github.com/Tyrowin/hearth/internal/identity"
	"github.com/Tyrowin/hearth/internal/presence"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

type coordsPayload struct {
	Lng *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
}

// decodeCoords returns the coordinates in data, or false if data is not a
// valid coordinate object.
func decodeCoords(data json.RawMessage) (identity.Coords, bool) {
	var p coordsPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return identity.Coords{}, false
	}
	if err := getValidator().Struct(p); err != nil {
		return identity.Coords{}, false
	}
	c := identity.Coords{Lng: *p.Lng, Lat: *p.Lat}
	return c, identity.ValidCoords(c)
}

// decodeLocation returns the location name in data, or false if it is not
// one of the known locations.
func decodeLocation(data json.RawMessage) (string, bool) {
	var loc string
	if err := json.Unmarshal(data, &loc); err != nil {
		return "", false
	}
	if err := getValidator().Var(loc, "max=100"); err != nil {
		return "", false
	}
	return loc, presence.ValidLocation(loc)
}

type chatPayload struct {
	Text    json.RawMessage `json:"text"`
	ReplyTo json.RawMessage `json:"replyTo"`
}

type replyPayload struct {
	ID   *string `json:"id"`
	User *string `json:"user"`
	Text *string `json:"text"`
}

// decodeChatText extracts the text of a chat payload. It fails when data is
// not an object or the text is not a string.
func decodeChatText(data json.RawMessage) (string, chatPayload, bool) {
	var p chatPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", p, false
	}
	var text string
	if len(p.Text) == 0 || string(p.Text) == "null" || json.Unmarshal(p.Text, &text) != nil {
		return "", p, false
	}
	return text, p, true
}

// textWithinLimit reports whether text is at most MaxTextLength characters.
func textWithinLimit(text string) bool {
	return getValidator().Var(text, "max=500") == nil
}

// decodeReply builds the truncated reply reference. Anything malformed
// yields nil rather than an error.
func decodeReply(raw json.RawMessage) *history.Reply {
	if len(raw) == 0 {
		return nil
	}
	var r replyPayload
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil
	}
	if r.ID == nil || r.User == nil || r.Text == nil {
		return nil
	}
	return &history.Reply{
		ID:   truncate(*r.ID, 100),
		User: truncate(sanitizeText(*r.User), 50),
		Text: truncate(sanitizeText(*r.Text), 100),
	}
}
