package spotify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// TokenRecord is the token endpoint response, persisted as-is in the token cache
type TokenRecord struct {
	ClientID                         string `json:"clientId,omitempty"`
	AccessToken                      string `json:"accessToken"`
	AccessTokenExpirationTimestampMs int64  `json:"accessTokenExpirationTimestampMs"`
	IsAnonymous                      bool   `json:"isAnonymous"`
}

// IsValid reports whether the record can be handed out at nowMs (epoch milliseconds).
// A record expiring exactly at nowMs is already expired.
func IsValid(rec *TokenRecord, nowMs int64) bool {
	if rec == nil || rec.AccessToken == "" {
		return false
	}
	return !rec.IsAnonymous && rec.AccessTokenExpirationTimestampMs > nowMs
}

// Millis is a millisecond offset. Spotify encodes these as decimal strings,
// but plain numbers are accepted too.
type Millis int64

func (m *Millis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}

	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if raw == "" {
			*m = 0
			return nil
		}
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Some payloads carry fractional milliseconds
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			return fmt.Errorf("invalid millisecond value %q", raw)
		}
		v = int64(f)
	}
	*m = Millis(v)
	return nil
}

func (m Millis) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(m), 10))
}

// Line is one lyric line as returned by the color-lyrics endpoint
type Line struct {
	StartTimeMs Millis            `json:"startTimeMs"`
	Words       string            `json:"words"`
	Syllables   []json.RawMessage `json:"syllables"`
	EndTimeMs   Millis            `json:"endTimeMs"`
}

// LyricsDocument is the "lyrics" object of a color-lyrics response
type LyricsDocument struct {
	SyncType            string `json:"syncType"` // LINE_SYNCED, UNSYNCED, SYLLABLE_SYNCED
	Lines               []Line `json:"lines"`
	Provider            string `json:"provider,omitempty"`
	ProviderLyricsID    string `json:"providerLyricsId,omitempty"`
	ProviderDisplayName string `json:"providerDisplayName,omitempty"`
	Language            string `json:"language,omitempty"`
	IsRtlLanguage       bool   `json:"isRtlLanguage,omitempty"`
}

// LyricsResponse is the full color-lyrics payload
type LyricsResponse struct {
	Lyrics          *LyricsDocument `json:"lyrics"`
	Colors          json.RawMessage `json:"colors,omitempty"`
	HasVocalRemoval bool            `json:"hasVocalRemoval"`
}

type serverTimeResponse struct {
	ServerTime *float64 `json:"serverTime"`
}
