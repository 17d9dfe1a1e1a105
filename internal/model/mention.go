package model

import "github.com/google/uuid"

// Mention is a resolved @name reference. StartIndex and EndIndex form a
// half-open span measured in runes of the source text.
type Mention struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	StartIndex  int       `json:"start_index"`
	EndIndex    int       `json:"end_index"`
}

// Comment is free text posted against an entity; it is not persisted here,
// only scanned for mentions.
type Comment struct {
	EntityID uuid.UUID `json:"entity_id"`
	AuthorID uuid.UUID `json:"author_id"`
	Text     string    `json:"text"`
	Mentions []Mention `json:"mentions"`
}
