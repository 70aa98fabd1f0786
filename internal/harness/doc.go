// Package harness runs dashboard scenarios end to end without a kernel.
//
// A scenario describes a notebook, a list of steps and a list of
// assertions, all in YAML:
//
//	name: widget_rerun
//	description: an updated control re-runs the cells below it
//	cells:
//	  - id: code1
//	    source: slider()
//	    outputs:
//	      - control: {model_id: w1, position: sidebar}
//	  - id: code2
//	    source: x = 2
//	steps:
//	  - bulk_run: {}
//	  - kernel: {direction: send, type: comm_msg, msg_id: u1, comm_id: w1, method: update}
//	  - kernel: {direction: recv, type: comm_msg, parent: u1, comm_id: w1, method: echo_update}
//	assertions:
//	  - type: executed
//	    cells: [code1, code2]
//
// Every step runs as one event on an engine loop, so the logical clock
// stamps each step with its own seq and the recorded trace is
// deterministic. Cells execute through a scripted executor: immediately by
// default, or held until a complete step when execution.deferred is set.
//
// Each scenario gets a fresh in-memory store. The trace it records is what
// golden files compare.
package harness
