package model

import "encoding/json"

// CoinKind classifies a coin as backing a single post or a writer profile.
type CoinKind string

const (
	KindWriter CoinKind = "writer"
	KindPost   CoinKind = "post"
)

// Coin is a snapshot of a platform coin.
type Coin struct {
	ID              string       `json:"id"`
	ContractAddress string       `json:"contractAddress"`
	Metadata        CoinMetadata `json:"metadata"`
	Kind            CoinKind     `json:"kind"`
}

// CoinMetadata mirrors the platform metadata document.
type CoinMetadata struct {
	Name        string            `json:"name"`
	Symbol      string            `json:"symbol"`
	Description string            `json:"description"`
	Image       string            `json:"image"`
	Decimals    uint8             `json:"decimals"`
	Links       map[string]string `json:"links,omitempty"`
	Extensions  CoinExtensions    `json:"extensions"`
}

// CoinExtensions keeps the known extension fields and the raw document.
type CoinExtensions struct {
	CoinType  string          `json:"coinType,omitempty"`
	Paragraph *ParagraphExt   `json:"paragraph,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// ParagraphExt is the platform-specific extension block.
type ParagraphExt struct {
	NoteID        string `json:"noteId,omitempty"`
	PublicationID string `json:"publicationId,omitempty"`
	UserID        string `json:"userId,omitempty"`
}

// UnmarshalJSON decodes the known fields and keeps the full document in Raw.
func (e *CoinExtensions) UnmarshalJSON(data []byte) error {
	type Alias CoinExtensions
	var a Alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = CoinExtensions(a)
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// TokenDecimals returns the declared decimals, defaulting to 18.
func (c Coin) TokenDecimals() uint8 {
	if c.Metadata.Decimals == 0 {
		return 18
	}
	return c.Metadata.Decimals
}
