/*
Package owserver is a minimal client for the owserver network protocol used
by 1-Wire bus controllers.

Every message starts with a 24-byte header of six big-endian 32-bit fields:

	request: version, payload length, message type, control flags, size, offset
	reply:   version, payload length, return code, control flags, size, offset

The payload of a request is a NUL-terminated bus path. The client asks for a
persistent connection and reconnects when the server does not grant one.
Replies with a payload length of -1 are keep-alive frames sent during slow
bus operations and are skipped.

Only the messages the collector needs are implemented: DIRALL to enumerate
devices, READ to fetch the address and reading properties, and NOP.
Device families map to default readings in families.go; operator supplied
device hints replace them.
*/
package owserver
