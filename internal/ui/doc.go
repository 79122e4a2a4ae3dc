// Package ui implements the terminal views of the CLI using bubbletea's Elm architecture.
//
// Two models are provided, both talking to a running server through the API client:
//   - [Watcher] polls an import session and renders a progress bar with its counters until the session
//     completes or fails
//   - [Board] lists tracks with their status and progress, refreshing on an interval, and starts, stops or
//     retries the selected track
//
// Fetches run as tea.Cmd functions and report back through the Msg union type. Keyboard bindings are
// vim-style (j/k, s/x/r, q) with contextual help from charmbracelet/bubbles/help.
package ui
