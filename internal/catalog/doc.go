// Package catalog maintains gettext translation catalogs.
//
// Messages are extracted from the application sources with pybabel into a template, every
// locale's .po file is merged with that template (entries no longer referenced become
// obsolete, new ones are added untranslated) and a binary .mo file is compiled next to it.
package catalog
