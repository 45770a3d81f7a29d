package broker

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// The stream delivers loosely-shaped JSON: quote pushes may batch under
// "entries" or "quotes", chart payloads nest bars under "bars" or
// "charts[].bars", and field names vary between feed revisions
// (offer vs ask, contractId vs symbol). Everything here parses tolerantly
// and drops what it cannot understand rather than failing the stream.

// parseMarketEvents converts one market stream message into typed events.
func parseMarketEvents(msg serverMessage, symbolFor func(int64) string) []MarketEvent {
	if len(msg.Data) == 0 {
		return nil
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		log.Debug().Err(err).Str("event", msg.Event).Msg("Discarding unparsable market payload")
		return nil
	}

	var events []MarketEvent

	if raw, ok := firstRaw(payload, "entries", "quotes"); ok {
		if ev := parseQuoteBatch(raw, symbolFor); len(ev.Quotes) > 0 {
			events = append(events, ev)
		}
	} else if looksLikeQuote(payload) {
		var fields map[string]any
		if err := json.Unmarshal(msg.Data, &fields); err == nil {
			if q, ok := parseQuoteFields(fields, symbolFor); ok {
				events = append(events, QuoteEvent{Quotes: []Quote{q}})
			}
		}
	}

	if raw, ok := payload["bars"]; ok {
		events = append(events, parseBarEvents(raw, payloadSymbol(payload))...)
	}
	if raw, ok := payload["charts"]; ok {
		events = append(events, parseChartEvents(raw)...)
	}

	if _, hasBids := payload["bids"]; hasBids {
		if ev, ok := parseDOMEvent(msg.Data, symbolFor); ok {
			events = append(events, ev)
		}
	}

	if raw, ok := payload["ticks"]; ok {
		events = append(events, parseTickEvents(raw, payloadSymbol(payload))...)
	}

	return events
}

// parseUserEvents converts one trading stream message into typed events.
// The feed tags entities with entityType (order, position, fill) either at
// the top level or wrapped as {entityType, entity}.
func parseUserEvents(msg serverMessage, symbolFor func(int64) string) []UserEvent {
	if len(msg.Data) == 0 {
		return nil
	}

	var wrapper struct {
		EntityType string          `json:"entityType"`
		Entity     json.RawMessage `json:"entity"`
	}
	if err := json.Unmarshal(msg.Data, &wrapper); err != nil {
		log.Debug().Err(err).Str("event", msg.Event).Msg("Discarding unparsable user payload")
		return nil
	}

	body := msg.Data
	if len(wrapper.Entity) > 0 {
		body = wrapper.Entity
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil
	}

	switch wrapper.EntityType {
	case "order":
		if o, ok := parseOrderFields(fields, symbolFor); ok {
			return []UserEvent{OrderEvent{Order: o}}
		}
	case "position":
		if p, ok := parsePositionFields(fields, symbolFor); ok {
			return []UserEvent{PositionEvent{Position: p}}
		}
	case "fill":
		if f, ok := parseFillFields(fields, symbolFor); ok {
			return []UserEvent{FillEvent{Fill: f}}
		}
	}
	return nil
}

// ===== QUOTES =====

func parseQuoteBatch(raw json.RawMessage, symbolFor func(int64) string) QuoteEvent {
	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		return QuoteEvent{}
	}

	ev := QuoteEvent{Quotes: make([]Quote, 0, len(entries))}
	for _, entry := range entries {
		if q, ok := parseQuoteFields(entry, symbolFor); ok {
			ev.Quotes = append(ev.Quotes, q)
		}
	}
	return ev
}

// parseQuoteFields builds a Quote from a flat entry, accepting the feed's
// key fallbacks: contractId|symbol, offer|ask, offerSize|askSize.
func parseQuoteFields(fields map[string]any, symbolFor func(int64) string) (Quote, bool) {
	symbol := quoteSymbol(fields, symbolFor)
	if symbol == "" {
		return Quote{}, false
	}

	q := Quote{Symbol: symbol, Timestamp: time.Now().UTC()}
	if v, ok := asFloat(fields["bid"]); ok {
		q.Bid = v
	}
	if v, ok := firstFloat(fields, "offer", "ask"); ok {
		q.Ask = v
	}
	if v, ok := asFloat(fields["last"]); ok {
		q.Last = v
	}
	if v, ok := asFloat(fields["bidSize"]); ok {
		q.BidSize = int64(v)
	}
	if v, ok := firstFloat(fields, "offerSize", "askSize"); ok {
		q.AskSize = int64(v)
	}
	if v, ok := asFloat(fields["totalVolume"]); ok {
		q.Volume = int64(v)
	}
	if ts, ok := fields["timestamp"]; ok {
		if t, err := parseTimestamp(ts); err == nil {
			q.Timestamp = t
		}
	}
	return q, true
}

func quoteSymbol(fields map[string]any, symbolFor func(int64) string) string {
	if id, ok := asFloat(fields["contractId"]); ok && id != 0 {
		if symbolFor != nil {
			return symbolFor(int64(id))
		}
		return strconv.FormatInt(int64(id), 10)
	}
	if s, ok := fields["symbol"].(string); ok {
		return s
	}
	return ""
}

func looksLikeQuote(payload map[string]json.RawMessage) bool {
	for _, key := range []string{"bid", "offer", "ask", "last"} {
		if _, ok := payload[key]; ok {
			return true
		}
	}
	return false
}

// ===== BARS =====

func parseBarEvents(raw json.RawMessage, symbol string) []MarketEvent {
	var bars []map[string]any
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil
	}

	events := make([]MarketEvent, 0, len(bars))
	for _, fields := range bars {
		bar, complete, err := parseBarFields(fields)
		if err != nil {
			log.Debug().Err(err).Msg("Discarding unparsable bar update")
			continue
		}
		sym := symbol
		if s, ok := fields["symbol"].(string); ok && s != "" {
			sym = s
		}
		events = append(events, BarEvent{Symbol: sym, Bar: bar, Complete: complete})
	}
	return events
}

func parseChartEvents(raw json.RawMessage) []MarketEvent {
	var charts []struct {
		Symbol string            `json:"symbol"`
		Bars   []json.RawMessage `json:"bars"`
	}
	if err := json.Unmarshal(raw, &charts); err != nil {
		return nil
	}

	var events []MarketEvent
	for _, chart := range charts {
		for _, rawBar := range chart.Bars {
			var fields map[string]any
			if err := json.Unmarshal(rawBar, &fields); err != nil {
				continue
			}
			bar, complete, err := parseBarFields(fields)
			if err != nil {
				continue
			}
			sym := chart.Symbol
			if s, ok := fields["symbol"].(string); ok && s != "" {
				sym = s
			}
			events = append(events, BarEvent{Symbol: sym, Bar: bar, Complete: complete})
		}
	}
	return events
}

// parseBarFields reads one bar map. Volume comes from "volume" when
// present, otherwise upVolume+downVolume as historical chart responses
// report it. The "complete" flag defaults to true when absent.
func parseBarFields(fields map[string]any) (Bar, bool, error) {
	ts, ok := fields["timestamp"]
	if !ok {
		return Bar{}, false, fmt.Errorf("bar missing timestamp")
	}
	t, err := parseTimestamp(ts)
	if err != nil {
		return Bar{}, false, fmt.Errorf("failed to parse bar timestamp: %w", err)
	}

	bar := Bar{Timestamp: t}
	if v, ok := asFloat(fields["open"]); ok {
		bar.Open = v
	}
	if v, ok := asFloat(fields["high"]); ok {
		bar.High = v
	}
	if v, ok := asFloat(fields["low"]); ok {
		bar.Low = v
	}
	if v, ok := asFloat(fields["close"]); ok {
		bar.Close = v
	}

	if v, ok := asFloat(fields["volume"]); ok {
		bar.Volume = int64(v)
	} else {
		up, _ := asFloat(fields["upVolume"])
		down, _ := asFloat(fields["downVolume"])
		bar.Volume = int64(up + down)
	}

	complete := true
	if v, ok := fields["complete"].(bool); ok {
		complete = v
	}
	return bar, complete, nil
}

// ===== DOM AND TICKS =====

func parseDOMEvent(raw json.RawMessage, symbolFor func(int64) string) (DOMEvent, bool) {
	var payload struct {
		ContractID int64      `json:"contractId"`
		Symbol     string     `json:"symbol"`
		Bids       []DOMLevel `json:"bids"`
		Asks       []DOMLevel `json:"asks"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return DOMEvent{}, false
	}

	symbol := payload.Symbol
	if symbol == "" && payload.ContractID != 0 && symbolFor != nil {
		symbol = symbolFor(payload.ContractID)
	}
	return DOMEvent{Symbol: symbol, Bids: payload.Bids, Asks: payload.Asks}, true
}

func parseTickEvents(raw json.RawMessage, symbol string) []MarketEvent {
	var ticks []struct {
		Price float64 `json:"price"`
		Size  int64   `json:"size"`
	}
	if err := json.Unmarshal(raw, &ticks); err != nil {
		return nil
	}

	events := make([]MarketEvent, 0, len(ticks))
	for _, t := range ticks {
		events = append(events, TickEvent{Symbol: symbol, Price: t.Price, Size: t.Size})
	}
	return events
}

// ===== USER ENTITIES =====

func parseOrderFields(fields map[string]any, symbolFor func(int64) string) (OrderState, bool) {
	id, ok := firstFloat(fields, "id", "orderId")
	if !ok {
		return OrderState{}, false
	}

	o := OrderState{ID: int64(id), Timestamp: time.Now().UTC()}
	if v, ok := asFloat(fields["accountId"]); ok {
		o.AccountID = int64(v)
	}
	if v, ok := asFloat(fields["contractId"]); ok {
		o.ContractID = int64(v)
		if symbolFor != nil {
			o.Symbol = symbolFor(o.ContractID)
		}
	}
	if s, ok := fields["symbol"].(string); ok && s != "" {
		o.Symbol = s
	}
	if s, ok := fields["action"].(string); ok {
		o.Action = Action(s)
	}
	if s, ok := fields["ordStatus"].(string); ok {
		o.Status = s
	}
	if ts, ok := fields["timestamp"]; ok {
		if t, err := parseTimestamp(ts); err == nil {
			o.Timestamp = t
		}
	}
	return o, true
}

func parsePositionFields(fields map[string]any, symbolFor func(int64) string) (Position, bool) {
	id, ok := asFloat(fields["contractId"])
	if !ok {
		return Position{}, false
	}

	p := Position{ContractID: int64(id), Timestamp: time.Now().UTC()}
	if symbolFor != nil {
		p.Symbol = symbolFor(p.ContractID)
	}
	if s, ok := fields["symbol"].(string); ok && s != "" {
		p.Symbol = s
	}
	if v, ok := asFloat(fields["netPos"]); ok {
		p.NetPos = int(v)
	}
	if v, ok := asFloat(fields["netPrice"]); ok {
		p.NetPrice = v
	}
	if ts, ok := fields["timestamp"]; ok {
		if t, err := parseTimestamp(ts); err == nil {
			p.Timestamp = t
		}
	}
	return p, true
}

func parseFillFields(fields map[string]any, symbolFor func(int64) string) (Fill, bool) {
	orderID, ok := asFloat(fields["orderId"])
	if !ok {
		return Fill{}, false
	}

	f := Fill{OrderID: int64(orderID), Timestamp: time.Now().UTC()}
	if v, ok := asFloat(fields["price"]); ok {
		f.Price = v
	}
	if v, ok := asFloat(fields["qty"]); ok {
		f.Qty = int(v)
	}
	if v, ok := asFloat(fields["contractId"]); ok && symbolFor != nil {
		f.Symbol = symbolFor(int64(v))
	}
	if s, ok := fields["symbol"].(string); ok && s != "" {
		f.Symbol = s
	}
	if ts, ok := fields["timestamp"]; ok {
		if t, err := parseTimestamp(ts); err == nil {
			f.Timestamp = t
		}
	}
	return f, true
}

// ===== HELPERS =====

// parseTimestamp accepts both timestamp forms the feed emits: ISO-8601
// strings and epoch milliseconds.
func parseTimestamp(v any) (time.Time, error) {
	switch ts := v.(type) {
	case string:
		return parseISOTime(ts)
	case float64:
		return time.UnixMilli(int64(ts)).UTC(), nil
	case json.Number:
		ms, err := ts.Int64()
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func parseISOTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format %q", s)
}

// parseBrokerTime is the forgiving variant for REST list responses where a
// missing or malformed timestamp should not fail the call.
func parseBrokerTime(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	t, err := parseISOTime(s)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func firstFloat(fields map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		if v, ok := asFloat(fields[key]); ok {
			return v, true
		}
	}
	return 0, false
}

func firstRaw(payload map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, key := range keys {
		if raw, ok := payload[key]; ok {
			return raw, true
		}
	}
	return nil, false
}

func payloadSymbol(payload map[string]json.RawMessage) string {
	raw, ok := payload["symbol"]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
