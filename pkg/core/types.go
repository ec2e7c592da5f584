package core

// Post is a single message extracted from a channel's public preview page.
// ID is the value of the message block's data-post attribute (for example
// "somechannel/123") and is the global deduplication key. All other fields
// are optional: a missing element on the page yields a nil field, never a
// parse failure.
type Post struct {
	ID        string     `json:"id"`
	Author    *string    `json:"author"`
	Text      *string    `json:"text"`
	Media     []string   `json:"media"`
	Reactions []Reaction `json:"reactions"`
	Views     *string    `json:"views"`
	Date      *string    `json:"date"`
}

// Reaction is one emoji reaction with its display count (for example "5.7K").
type Reaction struct {
	Emoji *string `json:"emoji"`
	Count *string `json:"count"`
}

// Channel holds channel metadata as shown on the preview page. It is parsed
// fresh on every poll and never persisted.
type Channel struct {
	ID          string   `json:"id"`
	Name        *string  `json:"name"`
	Image       *string  `json:"image"`
	Description *string  `json:"description"`
	Counters    Counters `json:"counters"`
}

// Counters are the channel's display counters. Values are kept as the page
// renders them ("12.3K"), not parsed into numbers.
type Counters struct {
	Subscribers *string `json:"subscribers"`
	Photos      *string `json:"photos"`
	Videos      *string `json:"videos"`
	Links       *string `json:"links"`
}

// Page is the parsed form of one public preview page: channel metadata plus
// every visible post in document order.
type Page struct {
	Channel Channel `json:"channel"`
	Posts   []Post  `json:"posts"`
}
