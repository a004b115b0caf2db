package zap

import (
	"strconv"

	"github.com/massmux/zapper/internal/errors"
	"github.com/nbd-wtf/go-nostr"
)

// Validate checks a signed zap request the way a zap endpoint would.
// amountMsats is compared with the amount tag when positive.
func Validate(ev *nostr.Event, amountMsats int64) error {
	reject := func(reason string) error {
		return errors.WithReason(errors.ZapRequestValidationError, reason)
	}
	if ev == nil {
		return reject("zap request is missing")
	}
	if ev.Kind != KindZapRequest {
		return reject("zap request must be of kind 9734")
	}
	if ok, err := ev.CheckSignature(); err != nil || !ok {
		return reject("zap request has an invalid signature")
	}
	if len(ev.Tags) == 0 {
		return reject("zap request has no tags")
	}

	var p, e, relays, amount []nostr.Tag
	for _, tag := range ev.Tags {
		if len(tag) == 0 {
			continue
		}
		switch tag[0] {
		case "p":
			p = append(p, tag)
		case "e":
			e = append(e, tag)
		case "relays":
			relays = append(relays, tag)
		case "amount":
			amount = append(amount, tag)
		}
	}

	if len(p) != 1 {
		return reject("zap request must have exactly one p tag")
	}
	if len(p[0]) < 2 || !isHexID(p[0][1]) {
		return reject("p tag must be a 64 char hex public key")
	}
	if len(e) > 1 {
		return reject("zap request must have at most one e tag")
	}
	if len(e) == 1 && (len(e[0]) < 2 || !isHexID(e[0][1])) {
		return reject("e tag must be a 64 char hex event id")
	}
	if len(relays) == 0 || len(relays[0]) < 2 {
		return reject("zap request must have a relays tag")
	}
	if len(amount) > 1 {
		return reject("zap request must have at most one amount tag")
	}
	if len(amount) == 1 {
		if len(amount[0]) < 2 {
			return reject("amount tag is empty")
		}
		value, err := strconv.ParseInt(amount[0][1], 10, 64)
		if err != nil || value <= 0 {
			return reject("amount tag must be a positive integer")
		}
		if amountMsats > 0 && value != amountMsats {
			return reject("amount tag does not match the requested amount")
		}
	}
	return nil
}
