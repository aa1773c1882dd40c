// Package upload copies build artifacts to distribution hosts over SFTP.
//
// Targets are written "user@host:remote/path" and map to a local glob. The remote path may use
// {version}, {stem}, {suffix} and {name} placeholders, filled per uploaded file.
package upload
