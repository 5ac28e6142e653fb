package domain

// Variation is a design variation chosen by the user.
type Variation struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// Preferences are the durably persisted per-conversation values.
type Preferences struct {
	SelectedVariation *Variation
	Minted            bool
}

// ConversationSession is a point-in-time view of a conversation's session
// state. Hydrated never goes back to false once set.
type ConversationSession struct {
	ConversationID    string
	Hydrated          bool
	IsTyping          bool
	IsGenerating      bool
	SelectedVariation *Variation
	Minted            bool
}
