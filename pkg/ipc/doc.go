/*
Package ipc is the IPC Server: the local control-plane socket procd exposes
to procctl. It accepts many concurrent client connections on a single Unix
stream socket, frames each message as a 4-byte big-endian length prefix
followed by UTF-8 JSON, and dispatches twelve commands — start, stop,
restart, delete, scale, list, logs, monit, status, save, load, ping — to the
supervisor, log, monitor, and config managers.

A connection's requests are answered strictly in FIFO order, but a
long-lived `logs --stream` request on one connection never blocks requests
arriving on any other connection.
*/
package ipc
