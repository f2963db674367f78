// Package service holds the chat domain services.
//
// Services validate client requests, persist through the storage
// repositories and publish session events. They never write to sockets;
// delivery is done by the notifiers, which observe the event bus and route
// through a Delivery implementation (the connection registry).
//
// This package contains:
//
//   - UserService: registration, login and logout
//   - ChannelService: channel creation and the invitation lifecycle
//   - MessagingService: direct and channel messages, history sync
//   - ReportService: listings and reports
//   - MessageNotifier, InvitationNotifier, LogRecorder: bus observers
//   - Argon2Hasher and FileAudioStore: credential and media helpers
package service
