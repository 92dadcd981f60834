package domain

import "time"

// PriceTick is one full snapshot delivered by a price feed.
type PriceTick struct {
	Prices PriceSnapshot `json:"prices"`
	Source string        `json:"source"` // "simulator", "ws"
	At     time.Time     `json:"at"`
}
