package command

import "time"

// JobInfo reports the state of the current job (spec.md §4.3), grounded on
// command_handlers.py's JobInfo.
type JobInfo struct{ base }

func NewJobInfo() *JobInfo     { return &JobInfo{} }
func (c *JobInfo) Name() string { return "job_info" }

func (c *JobInfo) Run(eng *Engine) (map[string]any, error) {
	job := eng.Job()

	if job.State == JobIdle {
		return c.failWrap(c.Name(), "Cannot get job info, when there is no job in progress.", ErrNoJob)
	}
	if job.ID == 0 {
		return c.fail(c.Name(), "Cannot get job info, don't know the job id yet.")
	}
	if job.FilePath == "" {
		return c.fail(c.Name(), "Cannot get job info, don't know the file details yet.")
	}

	result := map[string]any{
		"job_id": job.ID,
		"state":  eng.Manager.GetState().String(),
		"path":   job.FilePath,
	}

	if eng.Stats != nil {
		if eng.Stats.HasInbuiltStats() {
			result["has_inbuilt_stats"] = true
		} else {
			gcodeNumber := 0
			if eng.Updater != nil {
				if item, ok := eng.Updater.Get("gcode_number"); ok {
					if v, ok := item.Value(); ok {
						if n, ok := v.(int); ok {
							gcodeNumber = n
						}
					}
				}
			}
			percent, minutesRemaining := eng.Stats.Stats(gcodeNumber, time.Now())
			result["progress"] = percent
			result["time_remaining_minutes"] = minutesRemaining
		}
	}

	return result, nil
}
