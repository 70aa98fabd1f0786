// Package view renders a dashboard layout in the terminal.
//
// Render is a pure function of a layout snapshot and a width: the sidebar
// column sits left of the main column and the bottom strip spans the full
// width underneath. Model wraps it in a bubbletea program that follows
// snapshot updates and shows the connection-lost notice as a modal.
package view
