package main

import (
	"encoding/json"
	"os"

	"github.com/olavhq/olav/internal/olaverr"
	"github.com/olavhq/olav/internal/scheduler"
)

// loadScheduleFile reads the optional schedule.json: a JSON array of
// scheduler.Job records. A missing file means no scheduled jobs.
func loadScheduleFile(path string) ([]scheduler.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, olaverr.Wrap(olaverr.Internal, "read "+path, err)
	}
	var jobs []scheduler.Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, olaverr.Wrap(olaverr.Internal, "parse "+path, err)
	}
	return jobs, nil
}
