// Package control implements the IOC's background control loop.
//
// The loop owns two PVs: a run/stop enumeration {Run, Stop} and a
// read-only uint32 cycle counter. Writing Run starts the loop unless it is
// already running; each interval the loop checks run/stop and, while it
// still selects Run, increments and publishes the counter. Writing Stop
// lets the loop notice at its next interval and go idle.
//
// State machine:
//
//	Idle --Start (CAS)--> Running --run/stop != Run--> Idle
//	any  --Shutdown-----> ShuttingDown (terminal)
package control
