// Package service drives roam runs and executes the roam test process.
//
// The Supervisor owns an event loop. Start signals, sent once in manual
// mode or by a gocron scheduler in timer mode, launch a run of the
// Coordinator. Terminal results are encoded as JSON and handed to the
// configured uploaders: stdout, a directory, a results repository.
//
//	Supervisor              Coordinator                 uploaders
//	    |  Start() ------------>| Start(ctx, params)         |
//	    |                       | trigger, tail, watch       |
//	    |<------- Result -------|                            |
//	    |  json ---------------------------------------------> Upload
//
// A run requested while the previous one is still active is rejected by
// the Coordinator and skipped.
//
// Runner is a thin wrapper around os/exec used by the remote run endpoint.
// It starts the roam test process with stdout and stderr redirected to one
// writer, allows a single process at a time and kills it on timeout.
package service
