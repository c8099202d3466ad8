package server

import (
	"fmt"
	"io"
	"time"

	"positioning-go/binlog"
)

// ReplayLog feeds a recorded session through the live ingest path, pacing
// records by their captured timestamps. speed > 1 replays faster than real
// time; speed <= 0 replays as fast as the pipeline can take it. Published
// positions go to the attached sinks exactly as they would during capture.
func (s *UdpServer) ReplayLog(path string, speed float64) error {
	r, err := binlog.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	s.log.WithField("path", path).WithField("speed", speed).Info("replaying session")

	var firstTsMs int64
	var startReal time.Time
	count := 0

	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", count, err)
		}

		if count == 0 {
			firstTsMs = rec.TimestampMs
			startReal = time.Now()
		} else if speed > 0 {
			target := time.Duration(float64(rec.TimestampMs-firstTsMs)/speed) * time.Millisecond
			if wait := target - time.Since(startReal); wait > 0 {
				time.Sleep(wait)
			}
		}

		pos, err := Dispatch(s.pipeline, rec.Type, rec.Payload, rec.TimestampMs)
		if err != nil {
			framesDropped.WithLabelValues("replay", "malformed").Inc()
			s.log.WithError(err).Debug("bad record")
			count++
			continue
		}
		framesIngested.WithLabelValues("replay", frameTypeName(rec.Type)).Inc()
		s.publish(pos)
		count++
	}

	s.log.WithField("records", count).Info("replay finished")
	return nil
}
