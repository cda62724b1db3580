// Package server implements the Hearth real-time layer: the WebSocket
// gateway that admits connections, the hub that fans frames out to Global
// and regional subscribers, the dispatcher for inbound events and the small
// HTTP API around them.
//
// Frames on the socket are JSON envelopes of the form
//
//	{"type": "<event>", "data": <payload>}
//
// Inbound events are setCoords, setLocation and chatMessage. Everything
// else the server sends is listed in the Event* constants.
package server
