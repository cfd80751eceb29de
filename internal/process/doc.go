// Package process supervises the helper subprocesses LumiSync reads
// capture data from (ffmpeg for the screen, parec or arecord for audio).
//
// A Supervisor resolves the helper binary, hands each run's stdout to a
// stream consumer and keeps the tail of its stderr so a failure names its
// cause. Unexpected exits are retried with exponential backoff up to
// Config.Restarts. Every run gets its own process group; cancelling the
// start context or calling Stop signals the whole group.
//
//	sup := process.NewSupervisor(process.Config{
//	    Name:   "audio-capture",
//	    Binary: "parec",
//	    Args:   []string{"--raw", "--format=s16le", "--channels=1"},
//	    Stdout: decode,
//	})
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package process
