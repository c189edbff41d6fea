// Package transport bridges the MQTT broker and the core components.
//
// Inbound, the Listener subscribes to one wildcard topic per message
// category and routes each message to the registry, the resource store,
// or the command dispatcher:
//
//	cellfleet/reg/{endpoint}     registration
//	cellfleet/update/{endpoint}  liveness refresh
//	cellfleet/dereg/{endpoint}   deregistration
//	cellfleet/notify/{endpoint}  resource observation
//	cellfleet/ack/{endpoint}     command acknowledgement
//
// Outbound, the Pump periodically drains deliverable commands for each
// registered gateway, publishes them to cellfleet/cmd/{endpoint}, and
// arms a per-attempt acknowledgement deadline. An unanswered or
// unpublishable command goes through the dispatcher's retry policy.
//
// Handlers never hold a core lock across a publish, and a failure in one
// message's processing is logged and contained to that message.
package transport
