package main

import (
	"fmt"
	"io"

	"layerforge.ai/internal/persistence/indexdb"
	"layerforge.ai/internal/persistence/mirror"
	"layerforge.ai/internal/sim/engine"
)

type metricsView struct {
	Engine        engine.Metrics
	Subscribers   int
	EventsDropped uint64
	// Index is nil when indexing is disabled.
	Index *indexdb.Stats
	// Mirror is nil when mirroring is off.
	Mirror *mirror.Stats
}

// writeMetrics renders v in the Prometheus text exposition format.
func writeMetrics(w io.Writer, v metricsView) {
	gauge := func(name, help string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s gauge\n", name)
		fmt.Fprintf(w, "%s %v\n", name, value)
	}
	counter := func(name, help string, value uint64) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s counter\n", name)
		fmt.Fprintf(w, "%s %d\n", name, value)
	}

	gauge("layerforge_assemblies", "Current number of assemblies.", v.Engine.Assemblies)
	gauge("layerforge_event_subscribers", "Current number of event bus subscribers.", v.Subscribers)
	gauge("layerforge_engine_inbox_depth", "Commands waiting for the engine loop.", v.Engine.InboxDepth)
	gauge("layerforge_engine_step_ms", "Last engine step duration in milliseconds.", fmt.Sprintf("%.3f", v.Engine.StepMS))
	gauge("layerforge_snapshot_seq", "Sequence number of the last snapshot taken.", v.Engine.SnapshotSeq)
	counter("layerforge_commands_total", "Commands handled by the engine.", v.Engine.Commands)
	counter("layerforge_commands_rejected_total", "Commands answered with an error code.", v.Engine.Rejected)
	counter("layerforge_events_dropped_total", "Events dropped because a subscriber was full.", v.EventsDropped)

	if v.Mirror != nil {
		gauge("layerforge_mirror_queue_depth", "Files waiting for upload.", v.Mirror.QueueDepth)
		gauge("layerforge_mirror_last_upload_unix", "Time of the last successful upload.", v.Mirror.LastUploadUnix)
		counter("layerforge_mirror_uploaded_total", "Files uploaded.", v.Mirror.Uploaded)
		counter("layerforge_mirror_failed_total", "Files that failed every upload attempt.", v.Mirror.Failed)
		counter("layerforge_mirror_dropped_total", "Files dropped because the queue was full.", v.Mirror.Dropped)
	}

	if v.Index == nil {
		return
	}
	fmt.Fprintf(w, "# HELP layerforge_index_queue_depth Index writer backlog.\n")
	fmt.Fprintf(w, "# TYPE layerforge_index_queue_depth gauge\n")
	fmt.Fprintf(w, "layerforge_index_queue_depth %d\n", v.Index.QueueDepth)
	fmt.Fprintf(w, "# HELP layerforge_index_dropped_total Index rows dropped because the queue was full.\n")
	fmt.Fprintf(w, "# TYPE layerforge_index_dropped_total counter\n")
	fmt.Fprintf(w, "layerforge_index_dropped_total{kind=%q} %d\n", "refresh", v.Index.DropRefreshTotal)
	fmt.Fprintf(w, "layerforge_index_dropped_total{kind=%q} %d\n", "audit", v.Index.DropAuditTotal)
	fmt.Fprintf(w, "layerforge_index_dropped_total{kind=%q} %d\n", "snapshot", v.Index.DropSnapshotTotal)
}
