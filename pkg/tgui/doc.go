// Package tgui builds Telegram HTML messages.
//
// Everything here targets ParseMode="HTML": plain strings passed to the
// builder are escaped, values of type H are trusted as-is.
package tgui
