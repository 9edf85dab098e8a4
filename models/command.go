package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdScrapeNow      CommandType = "scrape_now"
	CmdScrapeSite     CommandType = "scrape_site"
	CmdPause          CommandType = "pause"
	CmdResume         CommandType = "resume"
	CmdRunLiveness    CommandType = "run_liveness"
	CmdExportListings CommandType = "export_listings"
)

type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	Site string `json:"site,omitempty"`
	Path string `json:"path,omitempty"`
}

// CommandTypes lists every command the daemon understands
var CommandTypes = []CommandType{
	CmdScrapeNow, CmdScrapeSite, CmdPause, CmdResume, CmdRunLiveness, CmdExportListings,
}

func (c CommandType) Valid() bool {
	for _, t := range CommandTypes {
		if c == t {
			return true
		}
	}
	return false
}
