// Package imagegen implements the generation stage. It accepts images in the
// chat completions shape (choices[].message.images[].image_url.url) and the
// images API shape (data[].b64_json or data[].url). A data URL yields inline
// bytes and an http(s) URL yields a direct reference.
package imagegen
