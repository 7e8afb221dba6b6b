// Package drive authorizes against Google Drive with OAuth2 and provides
// name search and media download on top of the Drive v3 API.
//
// Cached tokens go through a TokenStore so the interactive flow only runs
// when no cached token is valid and none can be refreshed.
package drive
