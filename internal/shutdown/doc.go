// Package shutdown runs the gateway's one-shot termination sequence.
//
// Any number of triggers may race; the first one wins and the rest are
// logged and ignored. The sequence tells the robot to stop, gives the
// network a moment to flush, stops presenters, drops the broker link and
// exits. A watchdog kills the process if any of that hangs.
package shutdown
