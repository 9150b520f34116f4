// Package config loads the per-channel configuration table that governs
// receive-side retry limits, CRC verification pacing, and timer
// intervals. Configuration lives in an INI file, one section per
// channel, read with gopkg.in/ini.v1.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/ini.v1"
)

// Channel holds the tunables for one channel's receive transactions.
type Channel struct {
	// AckLimit bounds FIN retransmissions in WAIT_FOR_FIN_ACK.
	AckLimit uint32
	// NakLimit bounds NAK retransmissions in FILEDATA.
	NakLimit uint32
	// RxCrcCalcBytesPerWakeup is the chunk size used by the bounded
	// CRC-over-file recomputation performed across Tick calls.
	RxCrcCalcBytesPerWakeup uint32
	// MaxChunks bounds the chunk list capacity for this channel.
	MaxChunks int
	// InactivityTimeout is how long a transaction may go without
	// receiving any PDU before recv.Tick declares it inactive.
	InactivityTimeout time.Duration
	// AckTimeout is the retransmission interval for the ACK timer
	// (both pre-FIN "waiting on EOF-ACK" and WAIT_FOR_FIN_ACK uses).
	AckTimeout time.Duration
}

func defaultChannel() Channel {
	return Channel{
		AckLimit:                3,
		NakLimit:                3,
		RxCrcCalcBytesPerWakeup: 1 << 16,
		MaxChunks:               100,
		InactivityTimeout:       30 * time.Second,
		AckTimeout:              5 * time.Second,
	}
}

// Table maps a channel number to its configuration.
type Table struct {
	channels map[int]Channel
	fallback Channel
}

// NewTable creates a table whose channels all default to sane values,
// useful for tests and for channels not present in a config file.
func NewTable() *Table {
	return &Table{channels: make(map[int]Channel), fallback: defaultChannel()}
}

// Channel returns the configuration for chanNum, falling back to
// defaults for a channel the table has never seen.
func (t *Table) Channel(chanNum int) Channel {
	if c, ok := t.channels[chanNum]; ok {
		return c
	}
	return t.fallback
}

// Set installs (or replaces) the configuration for a channel.
func (t *Table) Set(chanNum int, c Channel) {
	t.channels[chanNum] = c
}

var channelSection = regexp.MustCompile(`^channel(\d+)$`)

// Load reads a channel configuration table from an INI file. Sections are
// named "channelN"; a "defaults" section, if present, overrides the
// built-in defaults applied to channels that are otherwise unconfigured.
// file may be a path, []byte, or io.Reader, per ini.Load.
func Load(file any) (*Table, error) {
	cfg, err := ini.Load(file)
	if err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}

	t := NewTable()

	if defaults := cfg.Section("defaults"); defaults != nil {
		t.fallback = applyOverrides(t.fallback, defaults)
	}

	for _, section := range cfg.Sections() {
		m := channelSection.FindStringSubmatch(section.Name())
		if m == nil {
			continue
		}
		chanNum, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("config: section %q: %w", section.Name(), err)
		}
		t.channels[chanNum] = applyOverrides(t.fallback, section)
	}

	return t, nil
}

func applyOverrides(base Channel, section *ini.Section) Channel {
	if section.HasKey("ack_limit") {
		base.AckLimit = uint32(section.Key("ack_limit").MustUint(uint(base.AckLimit)))
	}
	if section.HasKey("nak_limit") {
		base.NakLimit = uint32(section.Key("nak_limit").MustUint(uint(base.NakLimit)))
	}
	if section.HasKey("rx_crc_calc_bytes_per_wakeup") {
		base.RxCrcCalcBytesPerWakeup = uint32(section.Key("rx_crc_calc_bytes_per_wakeup").MustUint(uint(base.RxCrcCalcBytesPerWakeup)))
	}
	if section.HasKey("max_chunks") {
		base.MaxChunks = section.Key("max_chunks").MustInt(base.MaxChunks)
	}
	if section.HasKey("inactivity_timeout_ms") {
		base.InactivityTimeout = time.Duration(section.Key("inactivity_timeout_ms").MustInt(int(base.InactivityTimeout.Milliseconds()))) * time.Millisecond
	}
	if section.HasKey("ack_timeout_ms") {
		base.AckTimeout = time.Duration(section.Key("ack_timeout_ms").MustInt(int(base.AckTimeout.Milliseconds()))) * time.Millisecond
	}
	return base
}
