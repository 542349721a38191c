package http

var SignedURL = signedURL
