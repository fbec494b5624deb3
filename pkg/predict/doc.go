// Package predict serves metered image classification.
//
// Service.Predict checks the caller's subscription quota, classifies the
// uploaded image and then records one unit of usage. Classification itself is
// delegated to a Classifier, normally an HTTPClassifier talking to the model
// server, optionally wrapped in a CachedClassifier.
package predict
