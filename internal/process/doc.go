// Package process supervises the plant server when the IOC runs it as a
// child process.
//
// The supervisor spawns the server in its own process group, logs its
// output line by line, waits until it is ready to accept connections and
// restarts it with exponential backoff when it exits unexpectedly. A run
// that lasts longer than StableAfter resets the backoff.
//
// Stopping sends SIGTERM to the whole process group and escalates to
// SIGKILL after StopTimeout.
//
//	sup := process.New(process.FromConfig(cfg.Plant.Managed, ready))
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package process
