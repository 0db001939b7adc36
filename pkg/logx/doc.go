// Package logx is the structured logging layer of the movie club bot.
//
// logx.Logger is a thin wrapper over zerolog:
//   - console output with a short timestamp and file:line caller
//   - optional JSON file sink
//   - optional chat sink that forwards WARN+ records to an admin chat,
//     rate limited and never blocking the caller
package logx
