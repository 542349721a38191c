package provider

var TranslateError = translateError
